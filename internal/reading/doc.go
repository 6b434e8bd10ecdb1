// Package reading turns a stream of raw sensor readings into a compacted,
// deduplicated time series.
//
// Every reading that survives retrieval is handed to the Engine, which asks
// the Repository for the sensor's two most recent rows and decides:
//
//	prior rows   condition                                  action
//	----------   ----------------------------------------   --------
//	0 or 1       always                                     insert
//	2+           |newer-older| <= dT and |older-new| <= dT
//	               and new.time - older.time > horizon      insert
//	               otherwise                                coalesce
//	2+           not stable                                 insert
//
// Coalescing advances the newest row's timestamp instead of adding a row, so
// a flat temperature is stored as a two-point segment whose end keeps moving.
// Inserts go through a duplicate check (same sensor, same temperature, time
// within five seconds either side); a duplicate turns the outcome into a skip.
//
// The read-decide-write sequence for one sensor is serialised inside the
// Engine. Different sensors proceed in parallel.
package reading
