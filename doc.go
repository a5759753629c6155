/*
Package dbsql streams the results of Databricks SQL statements.

A statement's result arrives in one of three shapes: a manifest of chunks
that are downloaded from time limited links, inline Arrow pages, or a small
inline textual result. NewCursor reads any of them through one forward only
Cursor:

	cursor, err := dbsql.NewCursor(ctx, client, result,
		dbsql.WithMaxDownloadThreads(8),
		dbsql.WithRowLimit(1000),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer cursor.Close()

	for {
		ok, err := cursor.Next(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			break
		}
		v, _ := cursor.Value(0)
		fmt.Println(v)
	}

client is the RPC layer that executed the statement; it implements
backend.Client. NewRows wraps the same cursor as database/sql/driver.Rows.

# Chunked results

Chunks are downloaded ahead of the reader by a pool of WithMaxDownloadThreads
workers, which also bounds how many chunks are held in memory at once. Rows
are always returned in order. Links that are about to expire, or that are
rejected by storage, are resolved again. Transient download failures are
retried with exponential backoff, up to WithMaxDownloadAttempts attempts per chunk.

Links may point at HTTP(S) pre-signed URLs or at object storage
(s3://, gs://, file://).

# Errors

Errors returned by the package can be inspected with errors.Is against the
sentinels in the errors package:

	if errors.Is(err, dbsqlerr.ErrResultClosed) { ... }
	if errors.Is(err, dbsqlerr.ChunkError) { ... }

and with errors.As against dbsqlerr.DBError to retrieve the connection,
correlation and query ids.

# Logging

The driver logs with zerolog. Use logger.SetLogLevel to change the level
(default warn) and logger.SetLogOutput to redirect it.

# Metrics

WithMetricsRegisterer registers Prometheus collectors for chunk downloads,
download attempts, link resolutions and the number of resident chunks.
*/
package dbsql
