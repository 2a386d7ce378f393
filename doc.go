// Package pgwire implements the wire-level data path of a PostgreSQL client.
/*
pgwire converts typed application values into extended-query protocol
requests, correlates pipelined requests with their responses, and decodes
server replies back into typed rows. It also implements both directions of
the COPY BINARY bulk transfer format.

It deliberately does not establish connections, authenticate, prepare
statements, or pool anything. The caller supplies an established duplex byte
stream (or any Transport implementation) and previously prepared Statement
descriptions; pgwire handles everything between a typed argument list and the
bytes on the wire.

Query Execution

An Executor runs prepared statements against a Transport:

	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	exec := pgwire.NewExecutor(transport, pgwire.ExecutorConfig{})

	stmt := &pgwire.Statement{
		Name:      "get_widget",
		ParamOIDs: []uint32{pgtype.Int4OID},
		Fields: []pgwire.FieldDescription{
			{Name: "id", DataTypeOID: pgtype.Int4OID},
			{Name: "label", DataTypeOID: pgtype.TextOID},
		},
	}

	rows, err := exec.Query(ctx, stmt, 42)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int32
		var label string
		if err := rows.Row().Scan(&id, &label); err != nil {
			return err
		}
	}
	if rows.Err() != nil {
		return rows.Err()
	}

All parameters and results use the binary format. Exec runs a statement
without materializing rows and reports the affected row count through its
CommandTag. QueryPortal fetches bounded chunks from a server-side cursor.

Bulk Transfer

CopyWriter and CopyReader implement the COPY BINARY framing codec. They
operate on raw chunks and can be used standalone; Executor.CopyIn and
Executor.CopyOut drive them over a Transport.
*/
package pgwire
