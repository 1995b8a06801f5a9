package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/facesync/internal/audit"
)

func TestSelectProposals(t *testing.T) {
	all := []audit.Proposal{
		{IdentityID: 3, Action: audit.ActionDeactivateProfile},
		{IdentityID: 7, Action: audit.ActionActivateProfile},
		{IdentityID: 9, Action: audit.ActionDeleteEmbeddings},
	}

	assert.Equal(t, all, selectProposals(all, nil))

	got := selectProposals(all, []int64{9, 3})
	assert.Equal(t, []audit.Proposal{all[0], all[2]}, got)

	assert.Empty(t, selectProposals(all, []int64{100}))
}

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "", joinIDs(nil))
	assert.Equal(t, "1, 42", joinIDs([]int64{1, 42}))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"status", "audit", "apply", "purge", "unblock"} {
		assert.True(t, names[want], want)
	}
}
