package socrata

import (
	"context"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
)

// Pager walks one dataset range with offset pagination. Only an empty page
// ends the sequence; a short page does not.
type Pager struct {
	client   *Client
	desc     domain.StreamDescriptor
	where    string
	order    string
	limit    int
	offset   int
	requests int
	done     bool
}

// Next fetches the next page. It returns an empty, non-nil page exactly once
// when the range is exhausted, and nil without a request after that.
func (p *Pager) Next(ctx context.Context) ([]map[string]any, error) {
	if p.done {
		return nil, nil
	}

	offset := p.offset
	page, err := p.client.fetch(ctx, p.desc, pageQuery(p.where, p.order, p.limit, offset), offset)
	p.requests++
	if err != nil {
		return nil, err
	}

	if len(page) == 0 {
		p.done = true
		return []map[string]any{}, nil
	}
	p.offset += p.limit
	return page, nil
}

// Where returns the $where clause in use.
func (p *Pager) Where() string { return p.where }

// Offset returns the offset the next request will use.
func (p *Pager) Offset() int { return p.offset }

// Requests returns the number of page requests issued so far.
func (p *Pager) Requests() int { return p.requests }

// Done reports whether the empty terminating page has been seen.
func (p *Pager) Done() bool { return p.done }
