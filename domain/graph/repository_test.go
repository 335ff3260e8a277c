package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReleaseKeyClaimIsProjectScoped(t *testing.T) {
	obj := &GraphObject{ProjectID: uuid.New(), CanonicalID: uuid.New()}
	sqlText := releaseKeyClaim(offlineDB(t), obj).String()

	assert.Contains(t, sqlText, "kb.graph_object_keys")
	assert.Contains(t, sqlText, "project_id = '"+obj.ProjectID.String()+"'")
	assert.Contains(t, sqlText, "canonical_id = '"+obj.CanonicalID.String()+"'")
}
