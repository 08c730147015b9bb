package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a book or quote does not exist
var ErrNotFound = errors.New("record not found")

// Book represents the schema of the books table
type Book struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:512;not null" json:"title"`
	Author    string    `gorm:"size:512" json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Quotes    []Quote   `gorm:"constraint:OnDelete:CASCADE" json:"quotes,omitempty"`
}

// Quote represents the schema of the quotes table
type Quote struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BookID     uint      `gorm:"not null;index" json:"book_id"`
	Text       string    `gorm:"size:1048576;not null" json:"text"`
	Page       int       `json:"page,omitempty"`
	Note       string    `gorm:"size:1048576" json:"note,omitempty"`
	Source     string    `gorm:"size:32;not null;default:manual" json:"source"` // "manual" or "photo"
	Underlined bool      `gorm:"not null;default:false" json:"underlined"`      // Text came from detected underlines
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QuoteUpdate holds the editable fields of a quote; nil fields are left as is
type QuoteUpdate struct {
	Text *string `json:"text"`
	Page *int    `json:"page"`
	Note *string `json:"note"`
}

// InitializeDB opens the SQLite database at dbPath and migrates the schema
func InitializeDB(dbPath string) *gorm.DB {
	// Ensure db directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm); err != nil {
		log.Fatalf("Failed to create db directory: %v", err)
	}

	db, err := openDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func openDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// SQLite ignores foreign keys unless asked
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	// Migrate the schema (create the tables if they don't exist)
	if err := db.AutoMigrate(&Book{}, &Quote{}); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateBook inserts a new book into the database
func CreateBook(db *gorm.DB, book *Book) error {
	return db.Create(book).Error
}

// GetAllBooks retrieves all books ordered by title
func GetAllBooks(db *gorm.DB) ([]Book, error) {
	var books []Book
	result := db.Order("title").Find(&books)
	return books, result.Error
}

// GetBook retrieves a book together with its quotes in page order
func GetBook(db *gorm.DB, id uint) (*Book, error) {
	var book Book
	result := db.Preload("Quotes", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("page, id")
	}).First(&book, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &book, result.Error
}

// DeleteBook removes a book and all of its quotes
func DeleteBook(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_id = ?", id).Delete(&Quote{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&Book{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// InsertQuote inserts a new quote for an existing book
func InsertQuote(db *gorm.DB, quote *Quote) error {
	var count int64
	if err := db.Model(&Book{}).Where("id = ?", quote.BookID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return db.Create(quote).Error
}

// GetQuote retrieves a single quote
func GetQuote(db *gorm.DB, id uint) (*Quote, error) {
	var quote Quote
	result := db.First(&quote, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &quote, result.Error
}

// UpdateQuote applies the non-nil fields of update to a quote
func UpdateQuote(db *gorm.DB, id uint, update QuoteUpdate) (*Quote, error) {
	quote, err := GetQuote(db, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if update.Text != nil {
		fields["text"] = *update.Text
	}
	if update.Page != nil {
		fields["page"] = *update.Page
	}
	if update.Note != nil {
		fields["note"] = *update.Note
	}
	if len(fields) == 0 {
		return quote, nil
	}

	if err := db.Model(quote).Updates(fields).Error; err != nil {
		return nil, err
	}
	return GetQuote(db, id)
}

// DeleteQuote removes a single quote
func DeleteQuote(db *gorm.DB, id uint) error {
	result := db.Delete(&Quote{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
