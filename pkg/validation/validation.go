// Package validation holds the structural checks applied to a fetched bucket
// before any content is verified against its source platform. The checks are
// fail-closed: one non-conforming entity rejects the whole bucket response.
package validation

import (
	"fmt"
	"time"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/utils"
)

// ValidateEntities confirms the returned entities are internally consistent
// with the advertised bucket. The returned error doubles as the evaluation
// failure reason, so each check produces a distinct message family: entity
// source, entity label, entity datetime, entity size, and bucket size.
func ValidateEntities(entities []data.DataEntity, bucket data.DataEntityBucket) error {
	var totalSizeBytes int64
	for i := range entities {
		if err := validateEntity(&entities[i], bucket.ID); err != nil {
			return err
		}
		totalSizeBytes += entities[i].ContentSizeBytes
	}
	if totalSizeBytes != bucket.SizeBytes {
		return fmt.Errorf("Bucket size %d does not match the total entity size %d", bucket.SizeBytes, totalSizeBytes)
	}
	return nil
}

func validateEntity(entity *data.DataEntity, id data.DataEntityBucketID) error {
	if entity.Source != id.Source {
		return fmt.Errorf("Entity source %s does not match the bucket source %s", entity.Source, id.Source)
	}
	if !entity.Label.Equal(id.Label) {
		return fmt.Errorf("Entity label %s does not match the bucket label %s", entity.Label, id.Label)
	}
	if !id.TimeBucket.Contains(entity.Datetime) {
		return fmt.Errorf("Entity datetime %s is outside the bucket window [%s, %s)",
			entity.Datetime.UTC().Format(time.RFC3339),
			id.TimeBucket.WindowStart().Format(time.RFC3339),
			id.TimeBucket.WindowEnd().Format(time.RFC3339))
	}
	if entity.ContentSizeBytes != int64(len(entity.Content)) {
		return fmt.Errorf("Entity size %d does not match the content length %d", entity.ContentSizeBytes, len(entity.Content))
	}
	return nil
}

// AreEntitiesUnique reports whether no two entities share the same uri,
// datetime, source, label, and content digest. Duplicates are how a miner
// pads a bucket with repeated content to inflate its apparent size.
func AreEntitiesUnique(entities []data.DataEntity) bool {
	seen := make(map[string]struct{}, len(entities))
	for i := range entities {
		key := entityKey(&entities[i])
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}

func entityKey(entity *data.DataEntity) string {
	return fmt.Sprintf("%s|%d|%d|%s|%s",
		entity.URI,
		entity.Datetime.UTC().UnixNano(),
		entity.Source,
		entity.Label.Key(),
		utils.ContentDigest(entity.Content))
}
