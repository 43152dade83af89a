package domain

import "errors"

var (
	// ErrInvalidSchema marks a URL the fetchers cannot request.
	ErrInvalidSchema = errors.New("unsupported url scheme")
	// ErrNoArticles means a listing page matched none of the known layouts.
	ErrNoArticles = errors.New("no product articles on page")
	// ErrMissingField means a required product field is absent from the markup.
	ErrMissingField = errors.New("required field missing")
)
