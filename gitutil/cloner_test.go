package gitutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/lmbatch/gitutil"
)

func TestRepoName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://github.com/acme/notes.git", want: "notes"},
		{url: "https://github.com/acme/notes", want: "notes"},
		{url: "https://github.com/acme/notes/", want: "notes"},
		{url: "git@github.com:acme/notes.git", want: "notes"},
		{url: "", want: "repo"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, gitutil.RepoName(tt.url))
		})
	}
}

func TestIsRepoURL(t *testing.T) {
	assert.True(t, gitutil.IsRepoURL("https://github.com/acme/notes.git"))
	assert.True(t, gitutil.IsRepoURL("http://internal.host/repo"))
	assert.True(t, gitutil.IsRepoURL("git@github.com:acme/notes.git"))
	assert.True(t, gitutil.IsRepoURL("ssh://git@host/repo"))

	assert.False(t, gitutil.IsRepoURL("./local/dir"))
	assert.False(t, gitutil.IsRepoURL("/abs/path/file.txt"))
	assert.False(t, gitutil.IsRepoURL("notes.txt"))
}
