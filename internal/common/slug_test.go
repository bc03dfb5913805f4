package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "www_example_com", Slugify("www.example.com"))
	assert.Equal(t, "_about_us", Slugify("/about-us"))
	assert.Equal(t, "abc123", Slugify("abc123"))
	assert.Equal(t, "_", Slugify("/"))
	assert.Equal(t, "", Slugify(""))
}

func TestHostSlug(t *testing.T) {
	assert.Equal(t, "www_example_com", HostSlug("https://www.example.com/some/path"))
	assert.Equal(t, "example_com_8080", HostSlug("http://example.com:8080/"))
	// Unparseable input degrades to slugifying the whole string
	assert.Equal(t, "not_a_url", HostSlug("not a url"))
}

func TestPageSlug(t *testing.T) {
	assert.Equal(t, "_about_us", PageSlug("https://example.com/about-us"))
	assert.Equal(t, "_", PageSlug("https://example.com/"))
	assert.Equal(t, "_", PageSlug("https://example.com"))
	assert.Equal(t, "_products_id_7", PageSlug("https://example.com/products?id=7"))
}

func TestTimestampSlug(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "2025-03-14T09-26-53", TimestampSlug(ts))

	// Round-trips through the layout without path separators
	parsed, err := time.Parse("2006-01-02T15-04-05", TimestampSlug(ts))
	assert.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}
