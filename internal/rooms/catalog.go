package rooms

import (
	"context"
	"errors"

	"golang.org/x/exp/slices"
)

// ErrRoomNotFound is returned when a room id is not part of the catalog.
var ErrRoomNotFound = errors.New("room not found")

// Site is a bookable room as known to the booking system.
type Site struct {
	ID       string `json:"site_id" mapstructure:"site_id"`
	Name     string `json:"site_name" mapstructure:"site_name"`
	Order    int    `json:"order" mapstructure:"order"`
	Excluded bool   `json:"excluded" mapstructure:"excluded"`
}

// Category groups sites for display.
type Category struct {
	ID       string `json:"id" mapstructure:"id"`
	Name     string `json:"name" mapstructure:"name"`
	Order    int    `json:"order" mapstructure:"order"`
	Excluded bool   `json:"excluded" mapstructure:"excluded"`
	Sites    []Site `json:"sites" mapstructure:"sites"`
}

// Catalog supplies the room catalog of a location.
type Catalog interface {
	Categories(ctx context.Context, location string) ([]Category, error)
}

// Placement is a site together with the category it is listed in.
type Placement struct {
	Site     Site
	Category Category
}

// Included drops excluded categories and sites, keeping catalog order.
func Included(categories []Category) []Placement {
	var out []Placement
	for _, c := range categories {
		if c.Excluded {
			continue
		}
		for _, s := range c.Sites {
			if s.Excluded {
				continue
			}
			out = append(out, Placement{Site: s, Category: c})
		}
	}
	return out
}

// FindSite locates a site by id in any category, excluded or not.
func FindSite(categories []Category, siteID string) (Placement, error) {
	for _, c := range categories {
		idx := slices.IndexFunc(c.Sites, func(s Site) bool { return s.ID == siteID })
		if idx != -1 {
			return Placement{Site: c.Sites[idx], Category: c}, nil
		}
	}
	return Placement{}, ErrRoomNotFound
}
