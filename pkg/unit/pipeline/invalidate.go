package pipeline

import (
	"github.com/jguan/pipeline-console/pkg/infra/cache"
	"github.com/jguan/pipeline-console/pkg/infra/logger"
)

// Query names of the cached reads.
const (
	QueryPipelineList         = "pipeline"
	QueryPipelineStatus       = "pipelineStatus"
	QueryPipelineConfig       = "pipelineConfig"
	QueryPipelineLastRevision = "pipelineLastRevision"
	QueryPipelineValidate     = "pipelineValidate"
	QueryPipelineStats        = "pipelineStats"
	QueryProgram              = "programCode"
)

func ListKey() cache.Key {
	return cache.Key{Name: QueryPipelineList}
}

func key(name, id string) cache.Key {
	return cache.Key{Name: name, ID: id}
}

// InvalidationKeys lists the reads made stale when an action on id settles.
func InvalidationKeys(id string) []cache.Key {
	return []cache.Key{
		key(QueryPipelineStatus, id),
		key(QueryPipelineConfig, id),
		key(QueryPipelineLastRevision, id),
		key(QueryPipelineValidate, id),
		ListKey(),
	}
}

// Invalidator marks the reads depending on a pipeline stale. It never
// fetches; the next read does.
type Invalidator struct {
	cache *cache.QueryCache
}

func NewInvalidator(c *cache.QueryCache) *Invalidator {
	return &Invalidator{cache: c}
}

func (i *Invalidator) Invalidate(id string) {
	if i == nil || i.cache == nil {
		return
	}
	marked := 0
	for _, k := range InvalidationKeys(id) {
		if i.cache.Invalidate(k) {
			marked++
		}
	}
	logger.Debug("invalidated pipeline queries", "pipeline_id", id, "marked", marked)
}
