/*
Package transaction runs units of work against a relational database with
nesting, lazy connection acquisition and retry of transient failures.

A Database pairs a Connector with transaction defaults. Connecting registers
a Manager for it; the Manager creates transactions and tracks which one is
current in each execution context carried by a context.Context.

	db, err := transaction.Connect(postgres.NewConnector(pool), cfg)
	if err != nil {
	    return err
	}
	defer db.Close()

	balance, err := transaction.Run(ctx, db, func(ctx context.Context, tx *transaction.Transaction) (int64, error) {
	    rows, err := tx.Query(ctx, "SELECT balance FROM accounts WHERE id = $1", id)
	    ...
	})

Calling Run again with the ctx handed to a unit of work joins the current
transaction: inside a savepoint when DatabaseConfig.UseNestedTransactions is
set, or sharing the outer transaction otherwise. Transient failures (see
IsRetryable) replay the whole top-level unit of work on a fresh connection
after a jittered backoff; any other error rolls back and is returned as is.
*/
package transaction
