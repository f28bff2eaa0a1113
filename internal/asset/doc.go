// Package asset stores user-supplied files in the "mb" database and reads
// them back in a form the rest of the application can use.
//
// Images in the buttons and backgrounds stores come back as References,
// process-local blob URLs that pin the payload until released. Style
// sheets come back as decoded text. A record that cannot be converted is
// logged and dropped so the rest of a Read still succeeds.
package asset
