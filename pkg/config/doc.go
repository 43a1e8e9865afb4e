// Package config provides the typed configuration surface of redtap.
//
// The configuration is organized into logical sections that are flattened
// into a single key space on disk, so a plain tap config file such as
//
//	{"host": "example.redshift.amazonaws.com", "database": "dev",
//	 "user": "loader", "password": "${REDSHIFT_PASSWORD}",
//	 "s3_bucket": "staging", "s3_key_prefix": "unload"}
//
// maps onto the nested structs below:
//   - Connection: warehouse target and SSL mode
//   - Auth: password or IAM authentication plus AWS credential resolution
//   - Staging: bulk export location and file format
//   - SchemaConversion: portable schema options
//   - Extraction: parallelism, checkpoint cadence, export timeouts
//   - Observability: logging, metrics and tracing
//   - Output: where the message stream and persisted state go
//
// # Loading
//
//	cfg, err := config.Load("tap.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load substitutes ${VAR_NAME} references from the environment before parsing,
// then lets REDTAP_<KEY> environment variables override any key, e.g.
// REDTAP_PASSWORD or REDTAP_STREAM_PARALLELISM. The legacy key username is an
// alias of user, and use_iam_authentication=true selects auth_method=iam.
//
// # Bulk export
//
// Bulk export through UNLOAD is used only when both s3_bucket and
// s3_key_prefix are set; otherwise every stream is read with a direct query.
package config
