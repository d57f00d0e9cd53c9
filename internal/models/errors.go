package models

import "errors"

var (
	// ErrKeyRequired indicates a preference key is empty.
	ErrKeyRequired = errors.New("key is required")

	// ErrPreferenceNotFound indicates a preference was not found.
	ErrPreferenceNotFound = errors.New("preference not found")

	// ErrDescriptionURLRequired indicates a renderer has no description URL.
	ErrDescriptionURLRequired = errors.New("description_url is required")

	// ErrRendererNotFound indicates a renderer was not found.
	ErrRendererNotFound = errors.New("renderer not found")
)
