/*
Package config loads and validates the daemon configuration.

Configuration layers, lowest precedence first: built-in defaults, the
YAML config file, HUTCH_* environment variables. A .env file in the
working directory is loaded before the environment is read so local
deployments can keep secrets out of the unit file.

# Keys

	listen             control API address        (default :8090)
	data_dir           daemon state directory     (default /var/lib/hutch)
	volumes_dir        workload volume base path
	containerd_socket  runtime socket path
	namespace          containerd namespace       (default hutch)
	auth_token         control API bearer token   (required)
	telemetry_secret   telemetry channel secret   (required)
	stats_interval     stats poll period, 2s-5s   (default 3s)
	stop_timeout       SIGTERM grace period       (default 10s)
	dashboard.*        periodic report target
	log.*              level and output format

Validate enforces the required fields and the stats interval bounds;
the daemon refuses to start on an invalid config rather than limping
along with half a setup.
*/
package config
