package domain

import "strings"

// Category is the department a ticket is routed to.
type Category string

const (
	CategorySupport     Category = "Support"
	CategoryDevelopment Category = "Development"
	CategoryBilling     Category = "Billing"
	CategoryUrgent      Category = "Urgent"
)

// Slug is the lowercase form used in channel names.
func (c Category) Slug() string {
	return strings.ToLower(string(c))
}

// ButtonStyle is a transport-neutral button emphasis.
type ButtonStyle string

const (
	ButtonPrimary   ButtonStyle = "primary"
	ButtonSecondary ButtonStyle = "secondary"
	ButtonSuccess   ButtonStyle = "success"
	ButtonDanger    ButtonStyle = "danger"
)

// CategoryOption describes how a category is offered to users.
type CategoryOption struct {
	Category       Category
	Description    string
	Style          ButtonStyle
	InitialMessage string
	Color          int
}

var knownCategories = map[Category]CategoryOption{
	CategorySupport: {
		Category:       CategorySupport,
		Description:    "General help and assistance",
		Style:          ButtonSuccess,
		InitialMessage: "Support ticket requested",
		Color:          0x2ecc71,
	},
	CategoryDevelopment: {
		Category:       CategoryDevelopment,
		Description:    "Technical issues and development requests",
		Style:          ButtonPrimary,
		InitialMessage: "Development ticket requested",
		Color:          0x9b59b6,
	},
	CategoryBilling: {
		Category:       CategoryBilling,
		Description:    "Questions about payments and subscriptions",
		Style:          ButtonSecondary,
		InitialMessage: "Billing ticket requested",
		Color:          0x9b59b6,
	},
	CategoryUrgent: {
		Category:       CategoryUrgent,
		Description:    "Critical issues requiring immediate attention",
		Style:          ButtonDanger,
		InitialMessage: "URGENT ticket requested",
		Color:          0x9b59b6,
	},
}

// CategoryCatalog is the ordered set of categories users may open.
type CategoryCatalog struct {
	options []CategoryOption
	index   map[string]int
}

// NewCategoryCatalog builds a catalog from category names. Unknown names
// get a generic description so the set stays extensible from config.
func NewCategoryCatalog(names []string) *CategoryCatalog {
	cat := &CategoryCatalog{index: make(map[string]int)}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := cat.index[strings.ToLower(name)]; dup {
			continue
		}
		opt, ok := knownCategories[Category(name)]
		if !ok {
			opt = CategoryOption{
				Category:       Category(name),
				Description:    name + " requests",
				Style:          ButtonSecondary,
				InitialMessage: name + " ticket requested",
				Color:          0x9b59b6,
			}
		}
		cat.index[strings.ToLower(name)] = len(cat.options)
		cat.options = append(cat.options, opt)
	}
	return cat
}

// DefaultCategoryCatalog returns Support, Development, Billing and Urgent.
func DefaultCategoryCatalog() *CategoryCatalog {
	return NewCategoryCatalog([]string{
		string(CategorySupport),
		string(CategoryDevelopment),
		string(CategoryBilling),
		string(CategoryUrgent),
	})
}

// Options returns the catalog entries in configured order.
func (c *CategoryCatalog) Options() []CategoryOption {
	return append([]CategoryOption(nil), c.options...)
}

// Lookup resolves a category name case-insensitively.
func (c *CategoryCatalog) Lookup(name string) (CategoryOption, bool) {
	i, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CategoryOption{}, false
	}
	return c.options[i], true
}
