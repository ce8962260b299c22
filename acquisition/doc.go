// Package acquisition coordinates a single sensor reading: it triggers
// TAKE_DYN_READING, collects the ReadingStarted, ReadingData and Temperature
// notifications that follow, and decodes the waveform.
//
// The gateway may push ReadingStarted before the trigger's acknowledgement
// is processed, so the session's listeners are attached to the notification
// bus before the command is written. Listeners are filtered by serial and
// removed when AcquireReading returns.
//
// Deadlines:
//
//   - DataTimeout covers ReadingStarted and ReadingData together.
//   - TemperatureTimeout starts after data arrives; expiry yields a result
//     without temperature.
//
// ReadingData observed before ReadingStarted is a protocol anomaly. It is
// counted, logged and discarded, and the session keeps waiting. A reading id
// delivered twice to the same session within DedupWindow is dropped as a
// duplicate. Sessions do not share ids.
package acquisition
