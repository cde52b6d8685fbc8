package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "a.txt", want: "a.txt"},
		{name: "nested", in: "b/c.txt", want: "b/c.txt"},
		{name: "directory trailing slash", in: "d/", want: "d"},
		{name: "absolute", in: "/etc/passwd", want: "etc/passwd"},
		{name: "parent traversal", in: "../../etc/passwd", want: "etc/passwd"},
		{name: "embedded traversal", in: "a/../../b", want: "a/b"},
		{name: "dot segments", in: "./a/./b", want: "a/b"},
		{name: "windows separators", in: `dir\sub\f.txt`, want: "dir/sub/f.txt"},
		{name: "drive letter", in: `C:\Windows\win.ini`, want: "Windows/win.ini"},
		{name: "nul bytes", in: "a\x00b/c", want: "ab/c"},
		{name: "repeated slashes", in: "a//b///c", want: "a/b/c"},
		{name: "only traversal", in: "../..", want: ""},
		{name: "empty", in: "", want: ""},
		{name: "spaces kept", in: "my dir/file name.txt", want: "my dir/file name.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestIsClean(t *testing.T) {
	t.Parallel()

	assert.True(t, IsClean("a/b"))
	assert.False(t, IsClean(""))
	assert.False(t, IsClean("/a"))
	assert.False(t, IsClean("a/../b"))
}

func TestDirBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b", Dir("a/b/c"))
	assert.Equal(t, "", Dir("c"))
	assert.Equal(t, "c", Base("a/b/c"))
	assert.Equal(t, "b", Base("a/b/"))
	assert.Equal(t, ".", Base(""))
}
