package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotebook/internal/constants"
)

func TestBookAndQuoteStore(t *testing.T) {
	db := testDB(t)

	book := &Book{Title: "Emma", Author: "Jane Austen"}
	require.NoError(t, CreateBook(db, book))
	other := &Book{Title: "Dracula"}
	require.NoError(t, CreateBook(db, other))

	books, err := GetAllBooks(db)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Dracula", books[0].Title)

	late := &Quote{BookID: book.ID, Text: "Late page", Page: 40, Source: constants.SourceManual}
	early := &Quote{BookID: book.ID, Text: "Early page", Page: 3, Source: constants.SourcePhoto, Underlined: true}
	require.NoError(t, InsertQuote(db, late))
	require.NoError(t, InsertQuote(db, early))
	require.NoError(t, InsertQuote(db, &Quote{BookID: other.ID, Text: "Other book", Source: constants.SourceManual}))

	got, err := GetBook(db, book.ID)
	require.NoError(t, err)
	require.Len(t, got.Quotes, 2)
	assert.Equal(t, "Early page", got.Quotes[0].Text)
	assert.True(t, got.Quotes[0].Underlined)

	text := "Late page, corrected"
	updated, err := UpdateQuote(db, late.ID, QuoteUpdate{Text: &text})
	require.NoError(t, err)
	assert.Equal(t, text, updated.Text)
	assert.Equal(t, 40, updated.Page)

	unchanged, err := UpdateQuote(db, late.ID, QuoteUpdate{})
	require.NoError(t, err)
	assert.Equal(t, text, unchanged.Text)

	require.NoError(t, DeleteQuote(db, early.ID))
	assert.ErrorIs(t, DeleteQuote(db, early.ID), ErrNotFound)

	require.NoError(t, DeleteBook(db, book.ID))
	_, err = GetBook(db, book.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GetQuote(db, late.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	remaining, err := GetBook(db, other.ID)
	require.NoError(t, err)
	assert.Len(t, remaining.Quotes, 1)
}

func TestStoreNotFound(t *testing.T) {
	db := testDB(t)

	_, err := GetBook(db, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, DeleteBook(db, 42), ErrNotFound)
	assert.ErrorIs(t, InsertQuote(db, &Quote{BookID: 42, Text: "orphan"}), ErrNotFound)
	_, err = UpdateQuote(db, 42, QuoteUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}
