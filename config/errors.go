package config

import "errors"

var (
	// ErrParse indicates the YAML document could not be decoded.
	ErrParse = errors.New("config: parse")

	// ErrInvalid indicates a decoded configuration failed validation.
	ErrInvalid = errors.New("config: invalid")
)
