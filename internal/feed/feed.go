package feed

import (
	"context"
	"strings"
	"time"

	"github.com/dmorgan81/imagegen/internal/generation"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/store"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type Generator struct {
	storage store.Storage
	bucket  string
	link    string
	now     func() time.Time
}

func New(storage store.Storage, bucket, link string) *Generator {
	return &Generator{storage: storage, bucket: bucket, link: link, now: time.Now}
}

func NewGenerator(i *do.Injector) (*Generator, error) {
	return New(
		do.MustInvoke[store.Storage](i),
		do.MustInvokeNamed[string](i, "bucket"),
		do.MustInvokeNamed[string](i, "storage_base_url"),
	), nil
}

// Generate renders every stored generation image as RSS, newest first.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed").With("bucket", g.bucket)
	log.Info("generating rss feed")

	objs, err := g.storage.List(ctx, g.bucket, generation.IDPrefix)
	if err != nil {
		return nil, err
	}
	objs = lo.Filter(objs, func(o store.Object, _ int) bool {
		return strings.HasSuffix(o.Name, ".png")
	})

	feed := feeds.Feed{
		Title:       "Image Generator",
		Description: "AI generated images",
		Link:        &feeds.Link{Href: g.link},
		Updated:     g.now(),
	}
	for _, obj := range objs {
		url, err := g.storage.GetURL(ctx, g.bucket, obj.Name, 0)
		if err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(obj.Name, ".png")
		feed.Add(&feeds.Item{
			Id:          id,
			Title:       lo.Ternary(obj.Metadata["prompt"] != "", obj.Metadata["prompt"], id),
			Link:        &feeds.Link{Href: url},
			Description: id,
			Updated:     obj.LastModified,
			Created:     obj.LastModified,
		})
	}

	feed.Sort(func(a, b *feeds.Item) bool {
		return a.Updated.After(b.Updated)
	})
	log.Debug("rendering feed", "items", len(feed.Items))

	rss, err := feed.ToRss()
	return []byte(rss), err
}
