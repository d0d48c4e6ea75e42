/*
Package qgram provides the record and q-gram primitives for the hardening
toolkit: q-gram set extraction from attribute values, Dice similarity
between q-gram sets, and streaming record sources for CSV datasets
(optionally gzip-compressed).

The package is deliberately free of storage and randomness concerns; all
functions are pure and deterministic so that pipelines built on top of
them are reproducible.
*/
package qgram
