package main

import "time"

const shutdownGrace = 5 * time.Second
