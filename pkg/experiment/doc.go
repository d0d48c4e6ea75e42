/*
Package experiment provides the bookkeeping side of hardening evaluations:
named hyperparameter presets for the hardening techniques compared in the
evaluation, YAML preset files, and JSON run manifests.

Only the vulnerability-aware technique has an executable implementation in
this repository; the baseline techniques (rehashing, BLIP, RBBF,
windowing-based XOR, diffusion) are modeled purely as configuration
presets, matching how the evaluation datasets describe them.
*/
package experiment
