package mutation

import (
	"bytes"
	"context"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/bbrks/go-blurhash"
	gonanoid "github.com/matoous/go-nanoid/v2"

	_ "golang.org/x/image/webp"

	"github.com/tallyapp/tally-go/internal/errors"
)

// maxCoverBytes bounds cover uploads at 5 MiB.
const maxCoverBytes = 5 << 20

// CoverImage is the result of an accepted cover upload.
type CoverImage struct {
	URL string
	// BlurHash is a compact placeholder rendered while the cover loads.
	BlurHash string
}

// UploadCover validates, stores, and describes a novel cover image. The
// object name is generated, never user-supplied. The returned URL goes into
// a novel draft's CoverImageURL.
func (m *Coordinator) UploadCover(ctx context.Context, data []byte) (*CoverImage, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, m.fail("cover.upload", err)
	}
	if len(data) == 0 {
		return nil, m.fail("cover.upload", errors.Validation("cover image is empty"))
	}
	if len(data) > maxCoverBytes {
		return nil, m.fail("cover.upload", errors.Validation("cover image exceeds 5 MB"))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, m.fail("cover.upload",
			errors.Validation("cover must be a JPEG, PNG, GIF, or WebP image"))
	}

	hash, err := blurhash.Encode(4, 3, img)
	if err != nil {
		return nil, m.fail("cover.upload", errors.Wrap(err, errors.CodeInternal, "encode placeholder"))
	}

	name, err := gonanoid.New()
	if err != nil {
		return nil, m.fail("cover.upload", errors.Wrap(err, errors.CodeInternal, "generate object name"))
	}
	path := "covers/" + userID + "/" + name + "." + format

	url, err := m.client.Upload(ctx, m.bucket, path, "image/"+format, data)
	if err != nil {
		return nil, m.fail("cover.upload", err)
	}

	m.notifier.Success("Cover uploaded")
	return &CoverImage{URL: url, BlurHash: hash}, nil
}
