package bininfo_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deet-dbg/deet/pkg/bininfo"
)

func itoa(n int) string { return strconv.Itoa(n) }

func TestLocationString(t *testing.T) {
	assert.Equal(t, "/src/nested.c:12", bininfo.Location{File: "/src/nested.c", Line: 12}.String())
}
