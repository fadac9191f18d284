package images

import (
	"context"
	"fmt"

	"chatimport/internal/conversation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persister resolves a turn's image URLs one at a time and stores each image
// under a fresh unique name.
type Persister struct {
	chain *Chain
	store Store
	log   *zap.Logger

	// Observe, when set, is told which tier served each URL (or TierFailed).
	Observe func(tier string)
	// NewName generates the stored filename for an extension.
	NewName func(ext string) string
}

// NewPersister binds a resolver chain to a store.
func NewPersister(chain *Chain, store Store, log *zap.Logger) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{
		chain:   chain,
		store:   store,
		log:     log,
		NewName: func(ext string) string { return uuid.NewString() + "." + ext },
	}
}

// Attach resolves urls sequentially and returns the attachments that were
// written. Failed URLs are logged and omitted.
func (p *Persister) Attach(ctx context.Context, urls []string) []conversation.Attachment {
	attachments := make([]conversation.Attachment, 0, len(urls))
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		a, err := p.persist(ctx, u)
		if err != nil {
			p.log.Warn("image skipped", zap.String("url", truncate(u)), zap.Error(err))
			continue
		}
		attachments = append(attachments, *a)
	}
	return attachments
}

func (p *Persister) persist(ctx context.Context, url string) (*conversation.Attachment, error) {
	img, tier := p.chain.Resolve(ctx, url)
	if img == nil {
		p.observe(TierFailed)
		return nil, fmt.Errorf("no resolver produced the image")
	}

	ext := Extension(img.ContentType, url)
	name := p.NewName(ext)
	if err := p.store.Put(ctx, name, img.Data); err != nil {
		p.observe(TierFailed)
		return nil, fmt.Errorf("store image: %w", err)
	}
	p.observe(tier)

	p.log.Debug("image saved", zap.String("file", name), zap.String("tier", tier), zap.Int("bytes", len(img.Data)))
	return &conversation.Attachment{
		Filename:    name,
		OriginalURL: url,
		SizeBytes:   int64(len(img.Data)),
		MimeType:    MimeType(img.ContentType, ext),
	}, nil
}

func (p *Persister) observe(tier string) {
	if p.Observe != nil {
		p.Observe(tier)
	}
}
