// Package catalog loads the read-only plan and preset configuration the
// feature gate and rule engine consume. Catalogs are decoded once at process
// start, either from the embedded defaults or from operator-supplied TOML
// files, and are immutable afterwards.
package catalog
