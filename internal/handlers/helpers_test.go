package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathID(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		prefix   string
		wantID   string
		wantRest string
	}{
		{"bare id", "/api/websites/web_123", "/api/websites", "web_123", ""},
		{"id with action", "/api/websites/web_123/check", "/api/websites", "web_123", "check"},
		{"trailing slash", "/api/websites/web_123/", "/api/websites", "web_123", ""},
		{"no id", "/api/websites/", "/api/websites", "", ""},
		{"prefix only", "/api/websites", "/api/websites", "", ""},
		{"nested rest", "/api/queue/que_1/a/b", "/api/queue", "que_1", "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, rest := PathID(tt.path, tt.prefix)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/history?limit=25&bad=x", nil)

	assert.Equal(t, 25, QueryInt(req, "limit", 50))
	assert.Equal(t, 50, QueryInt(req, "missing", 50))
	assert.Equal(t, 50, QueryInt(req, "bad", 50))
}

func TestQueryBool(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/websites?active=true&flag=nope", nil)

	v, ok := QueryBool(req, "active")
	assert.True(t, ok)
	assert.True(t, v)

	_, ok = QueryBool(req, "missing")
	assert.False(t, ok)

	_, ok = QueryBool(req, "flag")
	assert.False(t, ok)
}
