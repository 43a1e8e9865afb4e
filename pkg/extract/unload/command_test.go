package unload

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/redtap/pkg/compression"
)

func TestBuildCommand(t *testing.T) {
	loc := Location{Bucket: "staging", Prefix: "unload/public-orders/job1/"}
	query := `SELECT "id" FROM "public"."orders" WHERE "note" > 'it''s'`

	tests := []struct {
		name string
		opts CommandOptions
		want string
	}{
		{
			name: "text gzip ordered",
			opts: CommandOptions{RoleARN: "arn:aws:iam::1:role/unload", Format: FormatText, Compression: compression.Gzip, Ordered: true},
			want: `UNLOAD ('SELECT "id" FROM "public"."orders" WHERE "note" > ''it''''s''') ` +
				`TO 's3://staging/unload/public-orders/job1/' IAM_ROLE 'arn:aws:iam::1:role/unload' ` +
				`DELIMITER AS '\t' NULL AS '\\N' ESCAPE GZIP ALLOWOVERWRITE PARALLEL OFF`,
		},
		{
			name: "text uncompressed parallel",
			opts: CommandOptions{RoleARN: "r", Format: FormatText, Compression: compression.None},
			want: `UNLOAD ('SELECT "id" FROM "public"."orders" WHERE "note" > ''it''''s''') ` +
				`TO 's3://staging/unload/public-orders/job1/' IAM_ROLE 'r' ` +
				`DELIMITER AS '\t' NULL AS '\\N' ESCAPE ALLOWOVERWRITE PARALLEL ON`,
		},
		{
			name: "parquet with default role",
			opts: CommandOptions{Format: FormatParquet, Compression: compression.Gzip},
			want: `UNLOAD ('SELECT "id" FROM "public"."orders" WHERE "note" > ''it''''s''') ` +
				`TO 's3://staging/unload/public-orders/job1/' IAM_ROLE default ` +
				`FORMAT AS PARQUET ALLOWOVERWRITE PARALLEL ON`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildCommand(query, loc, tt.opts))
		})
	}
}

func TestJobLocation(t *testing.T) {
	loc := JobLocation("staging", "/exports/redtap/", "public-orders", "abc")
	assert.Equal(t, "exports/redtap/public-orders/abc/", loc.Prefix)
	assert.Equal(t, "s3://staging/exports/redtap/public-orders/abc/", loc.URI())
}
