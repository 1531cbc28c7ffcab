package models

import (
	"sort"
	"strings"
)

// Contact holds the contact details of one company
type Contact struct {
	CompanyType string `json:"company_type"`
	Website     string `json:"website"`
	Region      string `json:"region"`
	ContactName string `json:"contact_name"`
	City        string `json:"city"`
	Address     string `json:"address"`
	Postcode    string `json:"postcode"`
	Country     string `json:"country"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

// IsEmpty reports whether no field carries a value
func (c Contact) IsEmpty() bool {
	return c == Contact{}
}

// FullAddress joins the address components that are present
func (c Contact) FullAddress() string {
	var parts []string
	for _, p := range []string{c.Address, c.City, c.Postcode, c.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

// ContactDictionary maps company names to their contact details
type ContactDictionary map[string]Contact

// Names returns the company names in sorted order
func (d ContactDictionary) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find looks up a company by name. Project tables and the contact dictionary
// come from two independent model calls, so names rarely match exactly: a key
// matches when either string contains the other, ignoring case. Keys are
// checked in sorted order.
func (d ContactDictionary) Find(name string) (string, Contact, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", Contact{}, false
	}

	if c, ok := d[name]; ok {
		return name, c, true
	}

	for _, key := range d.Names() {
		k := strings.ToLower(key)
		if k == "" {
			continue
		}
		if strings.Contains(k, needle) || strings.Contains(needle, k) {
			return key, d[key], true
		}
	}
	return "", Contact{}, false
}

// NormalizeContacts returns an empty dictionary for nil input
func NormalizeContacts(d ContactDictionary) ContactDictionary {
	if d == nil {
		return ContactDictionary{}
	}
	return d
}
