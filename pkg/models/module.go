package models

// CommandModule is a named, categorized unit of opaque payload that can be
// dispatched to a hooked browser. The server never interprets Code.
type CommandModule struct {
	ID          int64  `json:"id" toml:"-"`
	Name        string `json:"name" toml:"name"`
	Description string `json:"description" toml:"description"`
	Category    string `json:"category" toml:"category"`
	Icon        string `json:"icon" toml:"icon"`
	Code        string `json:"code" toml:"code"`
}

// CategoryCount is one row of GET /api/modules/categories
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
