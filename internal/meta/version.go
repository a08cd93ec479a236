package meta

// VersionSHA is a build-time injected variable describing the Git commit SHA at which dnsforwarder
// was built. It is reported by -version and attached to metrics and error reports.
var VersionSHA string
