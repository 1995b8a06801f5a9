package queue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/facesync/internal/models"
)

func TestAttemptSubject(t *testing.T) {
	assert.Equal(t, "attempts.verification", AttemptSubject(models.AttemptActionVerification))
	assert.Equal(t, "attempts.registration", AttemptSubject(models.AttemptActionRegistration))
}

func TestStreamConfigs_SubjectsDoNotOverlap(t *testing.T) {
	seen := map[string]string{}
	for _, cfg := range streamConfigs() {
		for _, subj := range cfg.Subjects {
			prefix := strings.TrimSuffix(subj, ".>")
			for other, owner := range seen {
				assert.False(t, strings.HasPrefix(prefix, other) || strings.HasPrefix(other, prefix),
					"%s (%s) overlaps %s (%s)", subj, cfg.Name, other, owner)
			}
			seen[prefix] = cfg.Name
		}
	}
	assert.Len(t, seen, 3)
}
