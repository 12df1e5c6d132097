package ingest

import (
	"context"
	"strconv"
	"strings"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/services/rollup/domain"
)

// MaxPageSize caps one ListObjectsV2 page
const MaxPageSize = 500

// ListFiles returns up to hours archive keys for year, in key order.
// Listing starts after the bare year so "2015-..." keys come first and stops
// at the first key outside that year.
func ListFiles(ctx context.Context, store domain.ObjectStore, bucket string, year, hours int) ([]string, error) {
	if hours <= 0 {
		return nil, perr.InvalidArgf("ingest: hours must be positive, got %d", hours)
	}
	yearPrefix := strconv.Itoa(year)
	pageSize := min(hours, MaxPageSize)

	keys := make([]string, 0, hours)
	token := ""
	for len(keys) < hours {
		page, err := store.List(ctx, bucket, "", yearPrefix, pageSize, token)
		if err != nil {
			return nil, err
		}
		for _, k := range page.Keys {
			if !strings.HasPrefix(k, yearPrefix) {
				return keys, nil
			}
			keys = append(keys, k)
			if len(keys) == hours {
				return keys, nil
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return keys, nil
}

// Partition splits files into n contiguous parts whose sizes differ by at most one
func Partition(files []string, n int) [][]string {
	n = max(n, 1)
	if n > len(files) {
		n = max(len(files), 1)
	}
	parts := make([][]string, 0, n)
	base, extra := len(files)/n, len(files)%n
	start := 0
	for i := range n {
		size := base
		if i < extra {
			size++
		}
		parts = append(parts, files[start:start+size])
		start += size
	}
	return parts
}

// Batches splits files into consecutive groups of at most size
func Batches(files []string, size int) [][]string {
	size = max(size, 1)
	out := make([][]string, 0, (len(files)+size-1)/size)
	for i := 0; i < len(files); i += size {
		out = append(out, files[i:min(i+size, len(files))])
	}
	return out
}
