// Package archive converts between a row/column store and a self-describing
// XML archive.
//
// # Format
//
// An archive is a fixed XML header followed by nested elements, indented by
// [Indent] per level:
//
//	<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
//	<database>
//	  <table name="vehicle" prime_key="vehicle_id">
//	    <row>
//	      <column name="vehicle_id" type="1">7</column>
//	      <column name="name" type="3">Truck</column>
//	    </row>
//	  </table>
//	</database>
//
// The type attribute carries a [model.ColumnType] code. A null cell is an
// empty column element; the format cannot tell it apart from an empty
// string.
//
// # Encoding
//
// An [Encoder] is built around an open [store.Conn]. Tables are registered
// with [Encoder.RegisterTable] and written by [Encoder.Encode], which
// streams one row at a time from the store cursor.
//
// # Parsing
//
// [Parse] is a recursive-descent reader over a pull tokenizer. Elements it
// does not recognize are skipped together with their subtree, so archives
// written by newer versions with extra metadata still load.
//
// # Errors
//
// Usage errors ([ErrInvalidArgument], [ErrNoTablesRegistered]) are reported
// before any I/O. Document errors ([ErrUnexpectedTag],
// [ErrInvalidColumnType], [ErrMalformedDocument]) abort the parse. I/O
// errors are wrapped as [ErrEncodingFailed] or [ErrParseIO]. Streams passed
// to Encode and Parse are closed on every path.
package archive
