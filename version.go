package devfleet

// Version is the devfleet release version, overridable at build time with
// -ldflags "-X github.com/devfleet/devfleet.Version=...".
var Version = "0.1.0"
