// Package catalog is the device knowledge base: which parts exist, how
// their FICR identification decodes into a version tuple, and where the
// family-specific hardware blocks (NVMC, POWER, CTRL-AP, BPROT/ACL/SPU,
// QSPI) live in the address space.
//
// The part matrix is embedded YAML (devices.yaml) loaded once per process.
// Register layouts are Go tables keyed by family because they are code-level
// constants the controllers compile against, not tunable data.
//
// Classification is deliberately forgiving: a known part with an unknown
// revision letter maps to RevisionFuture, and an unknown part yields an
// unknown version without error, so newer silicon degrades gracefully
// instead of blocking identification.
package catalog
