package processor

import (
	"context"
	"fmt"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Image and project-update event types.
const (
	TypeImageUploaded = "image.uploaded"
	TypeImageDeleted  = "image.deleted"

	TypeProjectUpdatePosted  = "update.posted"
	TypeProjectUpdateDeleted = "update.deleted"
)

// ImageMetadata persists upload metadata rows for campaign images.
type ImageMetadata struct {
	deps Deps
	repo ImageRepository
}

var _ Processor = (*ImageMetadata)(nil)

func NewImageMetadata(deps Deps, repo ImageRepository) *ImageMetadata {
	return &ImageMetadata{deps: deps, repo: repo}
}

func (p *ImageMetadata) Name() string { return "ImageMetadataProcessor" }

func (p *ImageMetadata) EventTypes() []string {
	return []string{TypeImageUploaded, TypeImageDeleted}
}

func (p *ImageMetadata) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		id, err := requireString(evt, "imageId")
		if err != nil {
			return err
		}
		if evt.Type == TypeImageDeleted {
			return p.repo.Delete(ctx, id)
		}

		owner, err := requireString(evt, "userId")
		if err != nil {
			return err
		}
		url, err := requireString(evt, "url")
		if err != nil {
			return err
		}
		contentType, _ := evt.PayloadString("contentType")
		size, _ := payloadFloat(evt, "sizeBytes")
		return p.repo.Insert(ctx, &ImageRecord{
			ID:          id,
			OwnerID:     owner,
			URL:         url,
			ContentType: contentType,
			SizeBytes:   int64(size),
			UploadedAt:  evt.Timestamp,
		})
	})
}

// ProjectUpdate persists campaign update posts.
type ProjectUpdate struct {
	deps Deps
	repo ProjectUpdateRepository
}

var _ Processor = (*ProjectUpdate)(nil)

func NewProjectUpdate(deps Deps, repo ProjectUpdateRepository) *ProjectUpdate {
	return &ProjectUpdate{deps: deps, repo: repo}
}

func (p *ProjectUpdate) Name() string { return "ProjectUpdateProcessor" }

func (p *ProjectUpdate) EventTypes() []string {
	return []string{TypeProjectUpdatePosted, TypeProjectUpdateDeleted}
}

func (p *ProjectUpdate) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		id, err := requireString(evt, "updateId")
		if err != nil {
			return err
		}
		switch evt.Type {
		case TypeProjectUpdateDeleted:
			return p.repo.Delete(ctx, id)
		case TypeProjectUpdatePosted:
			campaignID, err := requireString(evt, "campaignId")
			if err != nil {
				return err
			}
			author, err := requireString(evt, "userId")
			if err != nil {
				return err
			}
			title, _ := evt.PayloadString("title")
			body, _ := evt.PayloadString("body")
			return p.repo.Insert(ctx, &ProjectUpdateRecord{
				ID:         id,
				CampaignID: campaignID,
				AuthorID:   author,
				Title:      title,
				Body:       body,
				PostedAt:   evt.Timestamp,
			})
		default:
			return fmt.Errorf("unexpected event type %s", evt.Type)
		}
	})
}
