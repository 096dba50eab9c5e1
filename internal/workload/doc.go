// Package workload generates the synthetic source corpus linked by an
// islandcheck experiment.
//
// A workload is a set of source units rendered from templates. Logic units
// are small functions with an index-dependent computation, each calling a
// symbol that lives in the entry unit. Padding units each reserve one large
// block of text so that the final binary exceeds the target's direct branch
// range and the linker has to insert branch islands.
//
// # Substitution Rule
//
// Templates use exactly one per-unit placeholder:
//
//	{{INDEX}}  the decimal unit index (0, 1, 2, ...)
//
// Constant parameters are bound once per generation with Bind before the
// per-unit loop (padding templates use {{SIZE}} for the block size in
// bytes). After binding, any placeholder other than {{INDEX}} is a render
// error, as is an unterminated "{{".
//
// # Layout
//
// Sources and compiled objects live in sibling directories:
//
//	<root>/src/logic/logic_0000.c     <root>/obj/logic/logic_0000.o
//	<root>/src/padding/padding_0000.s <root>/obj/padding/padding_0000.o
//	<root>/src/entry/main.c           <root>/obj/entry/main.o
//
// Indices are zero padded so that a lexical directory listing yields the
// same order as the numeric index.
package workload
