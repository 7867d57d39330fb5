// version.go - Versionsinformationen fuer Lemonade
//
// Dieses Modul enthaelt:
// - Version: Die Release-Version, wird beim Build via ldflags gesetzt
package version

// Version is the lemonade release version. Overridden at build time with
// -ldflags "-X github.com/lemonade-sdk/lemonade/version.Version=...".
var Version = "8.1.0"
