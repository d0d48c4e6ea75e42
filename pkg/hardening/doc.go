/*
Package hardening provides a database-backed toolkit for vulnerability-aware
hardening of q-gram encoded record databases in Go.

It maintains record corpora and their q-gram frequency statistics in a
single SQLite database, identifies the most frequent (and therefore most
vulnerable) q-grams of a public corpus, derives indexed reference sets from
their co-occurrence pools, and hardens a sensitive corpus by replacing each
occurrence of a vulnerable q-gram with a qualified variant chosen by Dice
similarity against those reference sets. Given the same corpora and secret
seed, every operation is fully reproducible.
*/
package hardening
