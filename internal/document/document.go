// Package document validates national taxpayer documents attached to accounts.
package document

import (
	"errors"
	"strings"
)

// Type identifies a document kind. Values match the document_types table.
type Type int

const (
	CPF  Type = 1
	CNPJ Type = 2
)

var (
	ErrTypeRequired  = errors.New("Document Type Id is required.")
	ErrValueRequired = errors.New("Document value is required.")
	ErrUnknownType   = errors.New("Invalid Document Type Id.")
	ErrInvalidCPF    = errors.New("CPF is invalid.")
	ErrInvalidCNPJ   = errors.New("CNPJ is invalid.")
)

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// Normalize validates value against the checksum rule of t and returns its
// bare digits. Dots, dashes, slashes and spaces are accepted as punctuation.
func Normalize(t Type, value string) (string, error) {
	if t == 0 {
		return "", ErrTypeRequired
	}
	if strings.TrimSpace(value) == "" {
		return "", ErrValueRequired
	}

	switch t {
	case CPF:
		digits, ok := digitsOf(value, 11)
		if !ok || !validCPF(digits) {
			return "", ErrInvalidCPF
		}
		return toString(digits), nil
	case CNPJ:
		digits, ok := digitsOf(value, 14)
		if !ok || !validCNPJ(digits) {
			return "", ErrInvalidCNPJ
		}
		return toString(digits), nil
	default:
		return "", ErrUnknownType
	}
}

// digitsOf strips punctuation and returns the digits if there are exactly n
// of them and nothing else.
func digitsOf(value string, n int) ([]int, bool) {
	digits := make([]int, 0, n)
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == '.' || r == '-' || r == '/' || r == ' ':
		default:
			return nil, false
		}
	}
	return digits, len(digits) == n
}

func repeated(d []int) bool {
	for _, v := range d[1:] {
		if v != d[0] {
			return false
		}
	}
	return true
}

func validCPF(d []int) bool {
	if repeated(d) {
		return false
	}
	for n := 9; n <= 10; n++ {
		sum := 0
		for i := 0; i < n; i++ {
			sum += d[i] * (n + 1 - i)
		}
		check := sum * 10 % 11
		if check == 10 {
			check = 0
		}
		if check != d[n] {
			return false
		}
	}
	return true
}

func validCNPJ(d []int) bool {
	if repeated(d) {
		return false
	}
	for _, weights := range [][]int{cnpjWeights1, cnpjWeights2} {
		n := len(weights)
		sum := 0
		for i, w := range weights {
			sum += d[i] * w
		}
		check := 0
		if r := sum % 11; r >= 2 {
			check = 11 - r
		}
		if check != d[n] {
			return false
		}
	}
	return true
}

func toString(d []int) string {
	b := make([]byte, len(d))
	for i, v := range d {
		b[i] = byte('0' + v)
	}
	return string(b)
}
