// Package layout computes Canonical ABI size, alignment and field offsets
// for the WIT types a linear-memory record holds.
//
// # Layout Rules
//
//   - Strings: (pointer, length) pair of u32, content stored elsewhere
//   - Records: fields laid out sequentially with padding for alignment
//
// # Usage
//
//	c := layout.NewCalculator()
//	info, err := c.Calculate(recordTypeDef)
//	// info.Size, info.Align, info.FieldOffs available
//
// Records here carry only string fields; any other WIT type is reported
// as unsupported.
package layout
