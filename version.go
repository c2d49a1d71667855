package realtime

const VERSION = "1.3.0"
