package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"too large", fmt.Errorf("upload: %w", ErrFileTooLarge), "FILE001"},
		{"parse error", &ParseError{Line: 3, Err: errors.New("wrong number of fields"), kind: ErrInvalidCSV}, "FILE002"},
		{"encoding", &ParseError{Err: errors.New("bad byte"), kind: ErrEncoding}, "FILE003"},
		{"no file", ErrNoFile, "FILE004"},
		{"empty", fmt.Errorf("ingest x.csv: %w", ErrEmptyFile), "FILE005"},
		{"not csv", ErrNotCSV, "FILE006"},
		{"conversion", ErrConversion, "CNV001"},
		{"orientation", ErrInvalidOrientation, "CNV002"},
		{"sample size", ErrSampleSize, "CNV003"},
		{"running", ErrConversionRunning, "CNV004"},
		{"conversion missing", ErrConversionNotFound, "CNV005"},
		{"session missing", ErrSessionNotFound, "SES001"},
		{"busy", ErrTooManyConversions, "UPL002"},
		{"cancelled", context.Canceled, "UPL004"},
		{"timeout", fmt.Errorf("convert: %w", context.DeadlineExceeded), "UPL005"},
		{"rate limited", ErrRateLimited, "RATE001"},
		{"body too large", errors.New("http: request body too large"), "FILE001"},
		{"multipart", errors.New("multipart: NextPart: EOF"), "FILE004"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Equal(t, UserMessage{}, MapError(nil))
	assert.Empty(t, FormatUserError(nil))
	assert.False(t, IsUserFacing(nil))
}

func TestParseErrorMessages(t *testing.T) {
	err := &ParseError{Line: 4, Err: errors.New("bare \" in non-quoted field"), kind: ErrInvalidCSV}

	assert.True(t, errors.Is(err, ErrInvalidCSV))
	assert.Equal(t, `invalid csv: line 4: bare " in non-quoted field`, err.Error())

	msg := MapError(err)
	assert.Equal(t, FormatHint, msg.Action)
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrEmptyFile)
	assert.True(t, strings.HasPrefix(got, "The uploaded file is empty (Code: FILE005)."))
	assert.True(t, IsUserFacing(ErrEmptyFile))
	assert.False(t, IsUserFacing(errors.New("boom")))
}
