// Package pdf turns free text into a printable PDF document.
//
// Layout splits text into one paragraph per line and interprets inline
// markdown (emphasis, code spans, links) into styled runs. List numbers,
// bullets, quote and heading markers are kept as written. Render draws
// the paragraphs on US Letter pages in Helvetica with automatic page breaks.
// Documents are built per request and never stored.
package pdf
