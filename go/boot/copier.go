package boot

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/loader"
	"github.com/lunixbochs/bootcorn/go/models"
)

// Plan is the placement computed for an image before anything is allocated.
type Plan struct {
	// Span is the Load Span of the image.
	Span models.Span
	// Pages is the page-aligned range requested from firmware.
	Pages models.Span
}

func (p *Plan) PageCount() uint64 {
	return p.Pages.Size() / models.PageSize
}

// PlanPlacement checks every region against the scratch buffer and computes the page
// request. It fails before any allocation, so a bad image never causes a partial load.
func PlanPlacement(scratch *loader.Scratch, img *models.Image) (*Plan, error) {
	size := uint64(len(scratch.Data))
	for i := range img.Regions {
		r := &img.Regions[i]
		if !r.ContainsFile(size) {
			return nil, errors.Wrapf(models.ErrCopyOutOfBounds, "region %d: file bytes 0x%x+0x%x past %d byte image", i, r.Off, r.Filesz, size)
		}
	}
	span, ok := img.Span()
	if !ok || span.Empty() {
		return nil, errors.Wrap(models.ErrMalformedImage, "empty load span")
	}
	pages := span.Pages()
	if pages.End < span.End {
		return nil, errors.Wrapf(models.ErrAddressUnavailable, "span %s wraps the address space", span)
	}
	// the copy reads from scratch while writing the span
	if pages.Overlaps(scratch.Span()) {
		return nil, errors.Wrapf(models.ErrAddressUnavailable, "span %s overlaps scratch buffer %s", pages, scratch.Span())
	}
	return &Plan{Span: span, Pages: pages}, nil
}

// Place allocates the load span at its fixed address, zeroes it and copies each region's
// file bytes into it.
func Place(fw models.BootServices, scratch *loader.Scratch, img *models.Image) (*Window, error) {
	plan, err := PlanPlacement(scratch, img)
	if err != nil {
		return nil, err
	}
	mem, err := fw.AllocatePages(plan.Pages.Start, plan.PageCount())
	if err != nil {
		if errors.Cause(err) != models.ErrAddressUnavailable {
			err = errors.Wrap(models.ErrAddressUnavailable, err.Error())
		}
		return nil, errors.WithMessagef(err, "allocate %s", plan.Pages)
	}
	if uint64(len(mem)) < plan.Pages.Size() {
		return nil, errors.Wrapf(models.ErrAddressUnavailable, "firmware granted %d of %d bytes", len(mem), plan.Pages.Size())
	}
	w := newWindow(plan.Pages.Start, mem[:plan.Pages.Size()])
	w.Zero()
	for i := range img.Regions {
		r := &img.Regions[i]
		if err := w.Write(r.Addr, scratch.Data[r.Off:r.Off+r.Filesz]); err != nil {
			return nil, errors.Wrapf(err, "copy region %d", i)
		}
	}
	return w, nil
}
