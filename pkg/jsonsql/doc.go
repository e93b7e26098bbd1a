// Package jsonsql evaluates a small SQL subset against in-memory tables whose
// rows map column names to dynamically typed values.
//
// The package has three layers:
//   - [Value] and the cell codec ([Encode], [Decode]), which give every value a
//     stable textual form that round-trips through JSON files
//   - [Parse], which turns statement text into a [Statement] AST
//   - [Evaluator], which applies a statement to a [Snapshot]
//
// Statements are never applied in place: mutating statements return a successor
// snapshot and leave the input untouched, so a failed commit never leaves half
// written state behind.
//
// Example:
//
//	ev := jsonsql.NewEvaluator()
//	snap := jsonsql.NewSnapshot()
//
//	res, err := ev.Query(`INSERT INTO "users" ("id", "name") VALUES ('u1', 'John')`, snap, nil)
//	if err != nil {
//	    return err
//	}
//
//	res, err = ev.Query(`SELECT * FROM "users" WHERE "name" = 'John'`, res.Snapshot, nil)
package jsonsql
