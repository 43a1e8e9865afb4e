package unload

import (
	"path"
	"strings"

	"github.com/ajitpratap0/redtap/pkg/compression"
)

// Format is the file format UNLOAD writes.
type Format string

const (
	FormatText    Format = "text"
	FormatParquet Format = "parquet"
)

// NullMarker is the text written for NULL in text exports.
const NullMarker = `\N`

// Location is a staging prefix in object storage.
type Location struct {
	Bucket string
	Prefix string
}

// URI renders the location as an s3:// URI.
func (l Location) URI() string {
	return "s3://" + l.Bucket + "/" + l.Prefix
}

// JobLocation namespaces a job under base/<stream>/<job>/ so concurrent
// jobs never share objects.
func JobLocation(bucket, base, stream, jobID string) Location {
	return Location{
		Bucket: bucket,
		Prefix: path.Join(strings.Trim(base, "/"), stream, jobID) + "/",
	}
}

// CommandOptions shape the UNLOAD statement.
type CommandOptions struct {
	// RoleARN is the IAM role the warehouse assumes; empty uses the
	// cluster's default role
	RoleARN     string
	Format      Format
	Compression compression.Algorithm
	// Ordered writes a single file sequence so key order survives
	Ordered bool
}

// BuildCommand renders the UNLOAD statement exporting query to loc.
func BuildCommand(query string, loc Location, opts CommandOptions) string {
	var b strings.Builder
	b.WriteString("UNLOAD ('")
	b.WriteString(strings.ReplaceAll(query, "'", "''"))
	b.WriteString("') TO '")
	b.WriteString(loc.URI())
	b.WriteString("' IAM_ROLE ")
	if opts.RoleARN == "" {
		b.WriteString("default")
	} else {
		b.WriteString("'" + strings.ReplaceAll(opts.RoleARN, "'", "''") + "'")
	}

	if opts.Format == FormatParquet {
		b.WriteString(" FORMAT AS PARQUET")
	} else {
		b.WriteString(` DELIMITER AS '\t' NULL AS '\\N' ESCAPE`)
		switch opts.Compression {
		case compression.Gzip:
			b.WriteString(" GZIP")
		case compression.Zstd:
			b.WriteString(" ZSTD")
		case compression.Bzip2:
			b.WriteString(" BZIP2")
		}
	}

	b.WriteString(" ALLOWOVERWRITE")
	if opts.Ordered {
		b.WriteString(" PARALLEL OFF")
	} else {
		b.WriteString(" PARALLEL ON")
	}
	return b.String()
}
