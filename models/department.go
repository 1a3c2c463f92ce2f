package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Department groups staff and the requests assigned to them
type Department struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Slug     string `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}

// TableName specifies the table name
func (Department) TableName() string {
	return "departments"
}

// BeforeCreate fills in the slug from the name
func (d *Department) BeforeCreate(tx *gorm.DB) error {
	if d.Slug == "" {
		d.Slug = departmentSlug(tx, d.Name)
	}
	return nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify lowercases name and keeps letters, digits and single hyphens
func Slugify(name string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = strings.Trim(slugDashes.ReplaceAllString(slug, "-"), "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		slug = "department"
	}
	return slug
}

// departmentSlug appends a counter until the slug is free
func departmentSlug(tx *gorm.DB, name string) string {
	db := tx.Session(&gorm.Session{NewDB: true})
	base := Slugify(name)
	slug := base
	for counter := 1; ; counter++ {
		var count int64
		db.Model(&Department{}).Where("slug = ?", slug).Count(&count)
		if count == 0 {
			return slug
		}
		slug = base + "-" + strconv.Itoa(counter)
	}
}
