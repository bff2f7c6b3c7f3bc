package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/blang/semver"
	"github.com/tinylib/msgp/msgp"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/wsi"
)

// ArchiveVersion is the version of the archived instance list format.  Archives with a
// different major version cannot be read.
var ArchiveVersion = semver.MustParse("1.0.0")

// ArchiveExt is the suffix of archived instance lists.
const ArchiveExt = ".wsi"

// Archive stores parsed instance lists in a blob bucket, one object per series.  Each
// object is a msgpack version string followed by msgpack bytes holding the serialized
// instance list.
type Archive struct {
	bucket   *blob.Bucket
	compress wsi.Compression
}

// NewArchive returns an archive over an open bucket.
func NewArchive(bucket *blob.Bucket, compress wsi.Compression) *Archive {
	return &Archive{bucket: bucket, compress: compress}
}

// OpenArchive opens the bucket reference and returns an archive over it.
func OpenArchive(ctx context.Context, ref string, compress wsi.Compression) (*Archive, error) {
	bucket, err := OpenBucket(ctx, ref)
	if err != nil {
		return nil, err
	}
	wsi.Infof("Opened instance archive @ %s using %s\n", ref, compress)
	return NewArchive(bucket, compress), nil
}

// ArchiveKey returns the object key of a series archive, the series key with the
// ".wsi" suffix, e.g., "<host>/<store path>/<study>/<series>.wsi".  Keeping the service
// and store in the key lets stores holding the same UIDs share one bucket.
func ArchiveKey(seriesKey string) string {
	return strings.Trim(seriesKey, "/") + ArchiveExt
}

// EncodeInstances returns the archived form of an instance list.
func EncodeInstances(instances []pyramid.Instance, compress wsi.Compression) ([]byte, error) {
	payload := MarshalInstances(nil, instances)
	data, err := wsi.SerializeData(payload, compress, wsi.CRC32)
	if err != nil {
		return nil, err
	}
	o := msgp.AppendString(nil, ArchiveVersion.String())
	return msgp.AppendBytes(o, data), nil
}

// DecodeInstances returns the instance list from its archived form.
func DecodeInstances(b []byte) ([]pyramid.Instance, error) {
	vstr, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return nil, fmt.Errorf("bad archive header: %v", err)
	}
	version, err := semver.Parse(vstr)
	if err != nil {
		return nil, fmt.Errorf("bad archive version %q: %v", vstr, err)
	}
	if version.Major != ArchiveVersion.Major {
		return nil, fmt.Errorf("archive version %s incompatible with supported version %s", version, ArchiveVersion)
	}
	data, _, err := msgp.ReadBytesZC(b)
	if err != nil {
		return nil, fmt.Errorf("bad archive payload: %v", err)
	}
	payload, _, err := wsi.DeserializeData(data)
	if err != nil {
		return nil, err
	}
	instances, _, err := UnmarshalInstances(payload)
	return instances, err
}

// GetInstances returns the archived instances of a series if present.
func (a *Archive) GetInstances(ctx context.Context, seriesKey string) ([]pyramid.Instance, bool, error) {
	key := ArchiveKey(seriesKey)
	data, err := a.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	instances, err := DecodeInstances(data)
	if err != nil {
		return nil, false, fmt.Errorf("archive %s: %w", key, err)
	}
	return instances, true, nil
}

// PutInstances archives the instances of a series, replacing any earlier archive.
func (a *Archive) PutInstances(ctx context.Context, seriesKey string, instances []pyramid.Instance) error {
	data, err := EncodeInstances(instances, a.compress)
	if err != nil {
		return err
	}
	key := ArchiveKey(seriesKey)
	if err := a.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("unable to write archive %s: %v", key, err)
	}
	wsi.Debugf("Archived %d instances to %s (%s)\n", len(instances), key, wsi.HumanBytes(len(data)))
	return nil
}

// List returns the series archive keys with the given prefix, e.g., a store's
// "<host>/<store path>/".
func (a *Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := a.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if strings.HasSuffix(obj.Key, ArchiveExt) {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// Close closes the underlying bucket.
func (a *Archive) Close() error {
	return a.bucket.Close()
}
